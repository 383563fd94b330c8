package main

import "linkpipe/cmd"

func main() {
	cmd.Execute()
}
