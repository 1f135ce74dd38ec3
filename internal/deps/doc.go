// Package deps checks that the external binaries clipsafe shells out to are
// installed and reports their versions.
package deps
