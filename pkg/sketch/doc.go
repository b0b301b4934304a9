// Package sketch turns photographs into pencil sketches.
//
// # Overview
//
// [PencilSketch] is a pure function from an [image.Image] to an [*image.Gray]
// of the same width and height. It combines two effects:
//
//  1. A dodge blend of the grayscale image with its inverted, heavily blurred
//     copy. This washes out flat regions to paper-white and keeps tonal
//     transitions as soft graphite shading.
//  2. An inverted edge map (Laplacian over the contrast-enhanced grayscale),
//     smoothed, that darkens outlines like pencil strokes.
//
// The two are multiplied together and smoothed once more.
//
// # Steps
//
// Each step is exported so it can be tested and reused on its own:
//
//	gray     := sketch.Grayscale(img)                  // luminance 0.299/0.587/0.114
//	enhanced := sketch.AdjustContrast(gray, 1.2)       // around the mean intensity
//	blurred  := sketch.Blur(sketch.Invert(enhanced), 15)
//	dodged   := sketch.Dodge(gray, blurred)            // pre-contrast gray
//	edges    := sketch.Invert(sketch.Convolve3x3(enhanced, sketch.EdgeKernel, false))
//	edges     = sketch.Convolve5x5(edges, sketch.SmoothMoreKernel, true)
//	out      := sketch.Convolve3x3(sketch.Multiply(dodged, edges), sketch.SmoothKernel, true)
//
// # Borders
//
// Every neighbourhood operation (blur and convolutions) extends the image by
// replicating its edge pixels, so the output has no dark or light frame.
//
// # Concurrency
//
// Functions in this package allocate their own buffers and keep no state.
// They are safe for concurrent use. Processing is not interruptible; callers
// that need a deadline should run [PencilSketch] in a goroutine and discard
// late results.
package sketch
