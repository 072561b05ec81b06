// Package runtime runs build stages in containerd containers.
//
// A [Runtime] connects to a containerd daemon. [Runtime.StartContainer]
// prepares a base image, either by pulling a registry reference or by
// importing a local OCI archive, unpacks it for the target platform and
// starts a container whose long-running task accepts exec processes.
//
// Each [Container] runs commands (through a shell or as a plain argv), moves
// files in and out as tar streams, and can be committed and exported as an
// OCI archive. The archive is written to a temporary file and renamed into
// place, so a failed export never leaves a partial image behind. Containers
// must be destroyed to release their snapshots.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "popbuild")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	ctr, err := rt.StartContainer(ctx, "docker.io/library/ubuntu:22.04", "pop-runtime", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	res, err := ctr.ExecArgs(ctx, []string{"/usr/bin/pop", "install", "-y"}, nil, "")
//	if err != nil {
//	    return err
//	}
//
//	archive, err := ctr.Export(ctx, "dist", runtime.ExportOptions{Entrypoint: []string{"/usr/bin/pop"}})
package runtime
