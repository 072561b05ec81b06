// Package build runs the two-stage pipeline that packages the pop CLI.
//
// The builder stage starts from a toolchain image, receives the filtered
// source tree, installs build packages, resolves the compiler toolchain and
// compiles a release binary. The runtime stage starts from a minimal base
// image, receives only the binary through a cross-stage tar stream, runs the
// binary's own install command to bootstrap its runtime dependencies and
// cleans the package caches. The runtime stage is exported as an OCI archive
// whose entrypoint is the bare binary; the builder stage is never exported.
//
// Every stage is a list of sequences. A [Sequence] runs its steps strictly in
// order and stops at the first fatal failure, reporting the failing step as a
// [*StepError]. Progress is tracked by a [Tracker] that only accepts the
// phases of the pipeline in order.
//
// Example usage:
//
//	rt, err := runtime.New(runtime.DefaultAddress, runtime.DefaultNamespace)
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	result, err := build.Run(ctx, build.Containerd(rt), build.Options{
//	    Pipeline: pipeline,
//	    Output:   "dist",
//	    Tag:      "docker.io/library/pop:latest",
//	})
//	if err != nil {
//	    return err
//	}
package build
