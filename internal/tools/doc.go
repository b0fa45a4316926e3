// Package tools runs local toolchain commands for streamctl.
package tools
