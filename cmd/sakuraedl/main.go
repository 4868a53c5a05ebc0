// Command sakuraedl drives a Qualcomm EDL device: Sahara programmer upload,
// Firehose partition read/write/erase and slot switching, GPT/sparse/super
// inspection, grounded on dsmmcken-dh-cli's cobra command-tree layout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
