/*
go-cinefocus performs real-time, point-prompted subject isolation on a live
video stream and composites a cinematic depth-of-field effect, frame by frame,
entirely on-device.  A user click becomes a tracked region of interest, a
point-prompted segmentation model produces per-pixel confidence masks
asynchronously, and a compositing renderer blends the sharp subject over a
blurred, lighting-graded background.

Three focus modes are supported: Single (one tracked subject), Multi (two
subjects for rack focus) and Priority (up to five ranked subjects merged into
one weighted composite mask).

The segmentation model itself is treated as a black box behind the
MaskProvider interface; two interchangeable DNN backends live in the segment
subdirectory.

See example code and usage in the example subdirectory.
*/
package cinefocus
