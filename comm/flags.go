package comm

import (
	"flag"
	"fmt"
	"strings"
	"time"
)

// AddrsFlag is a flag.Value holding a comma separated list of addresses.
type AddrsFlag []string

func (m *AddrsFlag) String() string {
	return fmt.Sprint(*m)
}

func (m *AddrsFlag) Set(value string) error {
	for _, str := range strings.Split(value, ",") {
		if str = strings.TrimSpace(str); str != "" {
			*m = append(*m, str)
		}
	}
	return nil
}

// DurationFlag is a flag.Value holding a time.Duration.
type DurationFlag time.Duration

func (m *DurationFlag) String() string {
	return time.Duration(*m).String()
}

func (m *DurationFlag) Set(value string) error {
	dur, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*m = DurationFlag(dur)
	return nil
}

// RegisterFlags binds the fields of n to flags of fs:
//
//	-mpi-addr:        address of the local running process
//	-mpi-alladdr:     comma separated list of the addresses of all processes
//	-mpi-inittimeout: how long Init may take before timing out
//	-mpi-protocol:    network protocol to use
//	-mpi-password:    password checked when peers connect
func (n *Network) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&n.Addr, "mpi-addr", n.Addr, "address of the local running process")
	fs.Var((*AddrsFlag)(&n.Addrs), "mpi-alladdr", "addresses of all of the processes as comma separated values")
	fs.Var((*DurationFlag)(&n.Timeout), "mpi-inittimeout", "duration to wait before timeout in init")
	fs.StringVar(&n.NetProto, "mpi-protocol", "tcp", "communication protocol to use")
	fs.StringVar(&n.Password, "mpi-password", n.Password, "value to use for salting the mpi connection")
}
