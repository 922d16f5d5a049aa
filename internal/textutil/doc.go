// Package textutil provides text normalization helpers for filesystem use.
//
// Slugify turns camera display names reported by gphoto2 into stable,
// filesystem-safe directory names. Accented characters are decomposed and
// their combining marks dropped so "Caméra Nikon" and "Camera Nikon" map to
// the same directory.
package textutil
