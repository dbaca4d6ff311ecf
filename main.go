// Package main is the entry point of embedjob, the batch embedding job for
// published articles.
package main

import "embeddingjob/cmd"

func main() {
	cmd.Execute()
}
