// Command evidexctl is the operator CLI: offline vectorization, image comparison,
// model status, and bulk reference import.
package main

func main() {
	Execute()
}
