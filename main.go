package main

import "github.com/wipfli/immich/cmd"

func main() {
	cmd.Execute()
}
