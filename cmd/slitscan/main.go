// slitscan builds slit-scan composites of a rotating subject from a camera
// or a video file.
package main

import "slitscan/cmd/slitscan/commands"

func main() {
	commands.Execute()
}
