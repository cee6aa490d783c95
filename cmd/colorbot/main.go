// Colorbot - Discord username color bot
package main

func main() {
	Execute()
}
