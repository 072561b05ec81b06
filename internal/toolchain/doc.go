// Package toolchain resolves the compiler toolchain and describes compilation.
//
// The source tree may pin a toolchain with a rust-toolchain or
// rust-toolchain.toml file. [ReadSelector] reads that pin on the host before
// any container is started. [Resolver] then makes the two-branch decision
// inside the builder: keep the active toolchain when it satisfies the pin, or
// install the pinned (or default) channel. There is no third branch; when
// installation fails the build fails.
//
// Commands run through an [Executor], which the build package backs with the
// builder container and tests back with a scripted fake.
//
// Example usage:
//
//	sel, err := toolchain.ReadSelector(sourceDir)
//	if err != nil {
//	    return err
//	}
//
//	outcome, err := toolchain.NewResolver(cfg.Toolchain).Resolve(ctx, exec, sel)
//	if err != nil {
//	    return err
//	}
package toolchain
