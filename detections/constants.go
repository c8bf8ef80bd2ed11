package detections

const (
	InputWidth  = 640
	InputHeight = 640
	InputPlanes = 3

	// RowWidth is the number of values in one raw detection row:
	// class_id, score, x1, y1, x2, y2.
	RowWidth = 6
)

// Input names of the two deployment topologies.
const (
	InputImShape     = "im_shape"
	InputImage       = "image"
	InputScaleFactor = "scale_factor"
)
