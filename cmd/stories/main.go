package main

import "github.com/stwalsh4118/stories/internal/cli"

func main() {
	cli.Execute()
}
