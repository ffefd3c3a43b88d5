// Package state persists the record of the last deployment run.
//
// The FileRepository stores and loads the record as protobuf JSON on disk so a
// later quick deployment can reuse the last validated job id.
package state
