package main

import "github.com/kiesman99/geostream/cmd"

func main() {
	cmd.Execute()
}
