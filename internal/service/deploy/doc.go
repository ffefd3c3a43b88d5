// Package deploy submits deployment archives to the remote metadata API and
// follows the resulting jobs until they reach a terminal status.
//
// A Track drives one archive through submit and poll. The Coordinator runs the
// primary track and then the destructive one, and reuses tracks to follow
// quick deployments of validated jobs.
package deploy
