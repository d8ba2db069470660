// Package tcp implements the TCP protocol machine: the PCB table and demux
// (spec.md §4.G), input processing (§4.H), output processing (§4.I), RTT
// estimation and NewReno congestion control. State constants and their
// String conversion are grounded directly on
// _examples/m-lab-tcp-info/tcp/state.go's int-type-plus-name-table shape.
package tcp

import "fmt"

// State is the enumeration of PCB states from spec.md §3.
type State int32

const (
	CLOSED State = iota
	LISTEN
	SYN_SENT
	SYN_RCVD
	ESTABLISHED
	FIN_WAIT_1
	FIN_WAIT_2
	CLOSE_WAIT
	CLOSING
	LAST_ACK
	TIME_WAIT
)

var stateName = map[State]string{
	CLOSED:      "CLOSED",
	LISTEN:      "LISTEN",
	SYN_SENT:    "SYN_SENT",
	SYN_RCVD:    "SYN_RCVD",
	ESTABLISHED: "ESTABLISHED",
	FIN_WAIT_1:  "FIN_WAIT_1",
	FIN_WAIT_2:  "FIN_WAIT_2",
	CLOSE_WAIT:  "CLOSE_WAIT",
	CLOSING:     "CLOSING",
	LAST_ACK:    "LAST_ACK",
	TIME_WAIT:   "TIME_WAIT",
}

func (s State) String() string {
	if n, ok := stateName[s]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN_STATE_%d", s)
}
