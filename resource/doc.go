// Package resource provides ready-made transfer handlers over common
// byte sources and sinks: in-memory slices and files.
//
// Each handler implements the transfer.Handler lifecycle: the resource is
// bound in PrepareRead/PrepareWrite and released in the matching Finalize
// call, with an optional OnFinalize callback reporting the terminal
// status.
//
//	worker.AddTransferHandler(3, resource.NewFileReader("firmware.bin"))
package resource
