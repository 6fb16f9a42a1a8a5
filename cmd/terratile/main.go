// Command terratile renders arbitrary-view images from tiled map sources.
package main

import (
	"github.com/brannongeo/terratile/cmd"
)

func main() {
	cmd.Execute()
}
