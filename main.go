package main

import "github.com/kerfworks/kerf/cmd"

func main() {
	cmd.Execute()
}
