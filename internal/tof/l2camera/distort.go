package l2camera

// distortNormalized applies the radial/tangential lens model to a point on
// the normalised image plane.
func (in *Intrinsics) distortNormalized(x, y float64) (float64, float64) {
	k1, k2, p1, p2, k3 := in.Distortion[0], in.Distortion[1], in.Distortion[2], in.Distortion[3], in.Distortion[4]
	r2 := x*x + y*y
	radial := 1 + r2*(k1+r2*(k2+r2*k3))
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// DistortPixel maps an ideal (undistorted) pixel to where the lens actually
// imaged it.
func (in *Intrinsics) DistortPixel(u, v float64) (float64, float64) {
	xd, yd := in.distortNormalized((u-in.Cx)/in.Fx, (v-in.Cy)/in.Fy)
	return xd*in.Fx + in.Cx, yd*in.Fy + in.Cy
}
