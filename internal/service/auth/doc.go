// Package auth obtains the session used to talk to the remote metadata API.
package auth
