package l4perception

import "sort"

// Component is one 8-connected region of label-1 pixels.
type Component struct {
	Box    Box
	Pixels int
	// External is false for regions that sit inside a hole of another
	// region and would not have an outer contour of their own.
	External bool
}

var (
	offsets4 = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	offsets8 = [8][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// Components labels the mask and returns its regions in raster order of
// their first pixel.
func Components(m *Mask) []Component {
	w, h := m.Width, m.Height
	if w <= 0 || h <= 0 || len(m.Data) != w*h {
		return nil
	}

	// Background reachable from the border through 4-connected steps. Any
	// background not reached is a hole.
	outside := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	seed := func(i int) {
		if m.Data[i] == 0 && !outside[i] {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		seed(x)
		seed((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		seed(y * w)
		seed(y*w + w - 1)
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		for _, d := range offsets4 {
			nx, ny := x+d[0], y+d[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			seed(ny*w + nx)
		}
	}

	seen := make([]bool, w*h)
	var comps []Component
	for start := range m.Data {
		if m.Data[start] == 0 || seen[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		minX, minY := start%w, start/w
		maxX, maxY := minX, minY
		pixels := 0
		external := false

		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			pixels++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				external = true
			}
			for _, d := range offsets8 {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if m.Data[j] == 0 {
					if outside[j] && (d[0] == 0 || d[1] == 0) {
						external = true
					}
					continue
				}
				if !seen[j] {
					seen[j] = true
					queue = append(queue, j)
				}
			}
		}

		comps = append(comps, Component{
			Box:      Box{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1},
			Pixels:   pixels,
			External: external,
		})
	}
	return comps
}

// rankBoxes orders regions by box area, largest first, keeping raster order
// among equal areas.
func rankBoxes(comps []Component, maxBoxes int) ([]Box, []int) {
	if len(comps) == 0 {
		return nil, nil
	}
	sort.SliceStable(comps, func(i, j int) bool {
		return comps[i].Box.Area() > comps[j].Box.Area()
	})
	if len(comps) > maxBoxes {
		comps = comps[:maxBoxes]
	}
	boxes := make([]Box, len(comps))
	areas := make([]int, len(comps))
	for i, c := range comps {
		boxes[i] = c.Box
		areas[i] = c.Pixels
	}
	return boxes, areas
}
