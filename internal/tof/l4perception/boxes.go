//go:build !withcv

package l4perception

// ExtractBoxes returns the bounding boxes of the external foreground
// regions, largest box area first, limited to maxBoxes. The second slice
// holds the pixel count of each returned region.
func ExtractBoxes(m *Mask, maxBoxes int) ([]Box, []int) {
	if maxBoxes <= 0 {
		return nil, nil
	}
	var external []Component
	for _, c := range Components(m) {
		if c.External {
			external = append(external, c)
		}
	}
	return rankBoxes(external, maxBoxes)
}
