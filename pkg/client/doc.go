// Package client implements the author side of the broker protocol: connect
// to a receiver, submit VOEvent documents one at a time and read back the ack
// or nak for each. It backs the "comet send" command.
package client
