package main

import "github.com/erfianugrah/image-resizer/cmd"

func main() {
	cmd.Execute()
}
