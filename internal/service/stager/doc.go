// Package stager copies changed source files into the staging tree that is
// later archived and deployed. Whole bundles, sibling descriptors and
// translated file names are handled here.
package stager
