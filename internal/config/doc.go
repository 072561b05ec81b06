// Package config declares the two-stage pipeline that popbuild executes.
//
// A [Pipeline] names the builder and runtime base images, the toolchain and
// compile settings, the package manager of each stage, and how the compiled
// binary bootstraps its own runtime dependencies. [Default] returns the
// pipeline for the pop CLI. Pipeline files are YAML documents decoded on top
// of the defaults, so a file only needs to list the fields it changes.
//
// Example pipeline file:
//
//	name: pop
//	builder:
//	  image: docker.io/library/rust:1.81-bookworm
//	  packages: [protobuf-compiler, clang]
//	runtime:
//	  image: docker.io/library/debian:bookworm-slim
//	  cleanup: warn
package config
