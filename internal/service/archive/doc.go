// Package archive packs a staging tree into the zip archive submitted for deployment
// and computes the checksum logged for every produced archive.
package archive
