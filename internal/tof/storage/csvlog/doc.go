// Package csvlog appends tracking records to a CSV file in the column
// order of the legacy tracker logs, so existing spreadsheets and scripts
// keep working.
package csvlog
