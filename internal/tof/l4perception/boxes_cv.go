//go:build withcv

package l4perception

import (
	"gocv.io/x/gocv"
)

// ExtractBoxes returns the bounding boxes of the external contours found by
// cv::findContours, largest box area first, limited to maxBoxes. The second
// slice holds each contour's area rounded to whole pixels.
func ExtractBoxes(m *Mask, maxBoxes int) ([]Box, []int) {
	if maxBoxes <= 0 || m.Width <= 0 || m.Height <= 0 {
		return nil, nil
	}
	mat, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8U, m.Data)
	if err != nil {
		opsf("mask to mat: %v", err)
		return nil, nil
	}
	defer mat.Close()

	contours := gocv.FindContours(mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	comps := make([]Component, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		r := gocv.BoundingRect(contour)
		comps = append(comps, Component{
			Box:      Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
			Pixels:   int(gocv.ContourArea(contour) + 0.5),
			External: true,
		})
	}
	return rankBoxes(comps, maxBoxes)
}
