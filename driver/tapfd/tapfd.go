// Package tapfd is a Linux-only driver.Driver backed by a real /dev/net/tun
// device opened in TUN mode (IFF_TUN|IFF_NO_PI: bare IPv4, no Ethernet
// framing), for running ustack against actual host networking instead of
// the in-process driver.LoopbackEnd. It is a reference adapter: no other
// package in this module imports it.
package tapfd
