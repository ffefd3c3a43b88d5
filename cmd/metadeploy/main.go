package main

import "github.com/oshokin/metadeploy/cmd/metadeploy/cmd"

func main() {
	cmd.Execute()
}
