// Package sftppath normalizes SFTP wire paths into the flat path
// representation used by the backend contract.
package sftppath

import "strings"

// Normalize strips leading and trailing slashes from p. The root of the
// tree, however it's spelled on the wire ("", "/", ".", or any run of
// slashes), normalizes to the empty string. No "." or ".." segment
// resolution happens at this layer; that's the backend's problem, if it's
// a problem at all.
func Normalize(p string) string {
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Join joins a normalized parent path and a child name into a normalized
// path.
func Join(parent, name string) string {
	parent = Normalize(parent)
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Base returns the final path element of a normalized path.
func Base(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Dir returns the parent of a normalized path, or "" if p is at the root.
func Dir(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}
