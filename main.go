package main

import "delta-sync/cmd"

func main() {
	cmd.Execute()
}
