// Package classifier maps paths of the source tree to metadata components.
//
// Classification is a pure function of the relative path and the immutable
// metadata.Rules injected at construction.
package classifier
