package main

import "serverwatch/internal/cmd"

func main() {
	cmd.Execute()
}
