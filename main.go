package main

import (
	"github.com/voxsend/vox-relay/cmd"
)

func main() {
	cmd.Execute()
}
