// Provides platform-appropriate locations for popbuild state.
//
// Paths follow XDG conventions on Linux and platform-native conventions on
// macOS. Every location is namespaced under a "popbuild" subdirectory. The
// daemon socket and PID file live under the runtime directory, the pipeline
// file under the config directory, and exported images under the data
// directory unless an explicit output is requested.
package paths
