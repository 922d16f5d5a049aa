// Package gphoto wraps the gphoto2 command line tool.
//
// The parser half understands two fixed text grammars: the auto-detect table
// (camera name followed by a usb:BBB,PPP port) and the recursive file listing
// (folder headers followed by "#index name flags size KB type timestamp"
// lines). Lines that match neither grammar are skipped. Only files whose
// extension belongs to the image/video allow-list are kept.
//
// The client half builds gphoto2 invocations scoped to a port path and runs
// them through a procrun.Runner so tests can script the tool's output.
package gphoto
