// Command facelab runs live face, pose and face mesh detection on a camera feed
// and serves the mirrored video with the detection overlay.
package main

func main() {
	Execute()
}
