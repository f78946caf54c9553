package main

import "github.com/katabasis-sandbox/katabasis/cmd/katabasis/cmd"

func main() {
	cmd.Execute()
}
