package adapters

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"

	"picow-telemetry/application"

	"github.com/rs/zerolog"
)

type InterfaceLinkParams struct {
	// Interface is the network interface backing the link, e.g. wlan0.
	Interface string

	// AssociateCommand, when set, is started with the ssid and password
	// appended as its last two arguments. Leave empty when the operating
	// system manages association.
	AssociateCommand []string

	// for testing
	LookupFunc func(name string) (*net.Interface, error)
	AddrsFunc  func(iface *net.Interface) ([]net.Addr, error)

	Log zerolog.Logger
}

func (p *InterfaceLinkParams) EnsureDefaults() {
	if p.LookupFunc == nil {
		p.LookupFunc = net.InterfaceByName
	}
	if p.AddrsFunc == nil {
		p.AddrsFunc = func(iface *net.Interface) ([]net.Addr, error) {
			return iface.Addrs()
		}
	}
}

// InterfaceLink reports link status from a host network interface.
type InterfaceLink struct {
	params InterfaceLinkParams

	mu        sync.Mutex
	address   string
	assocDone bool
	assocErr  error
	macLogged bool

	log zerolog.Logger
}

func NewInterfaceLink(params InterfaceLinkParams) (*InterfaceLink, error) {
	if params.Interface == "" {
		return nil, fmt.Errorf("interface name is empty")
	}
	params.EnsureDefaults()

	return &InterfaceLink{params: params, log: params.Log}, nil
}

func (l *InterfaceLink) Associate(ssid, password string) error {
	if len(l.params.AssociateCommand) == 0 {
		l.log.Debug().Str("interface", l.params.Interface).Msg("association managed by the system")
		return nil
	}

	args := append(append([]string{}, l.params.AssociateCommand[1:]...), ssid, password)
	cmd := exec.CommandContext(context.Background(), l.params.AssociateCommand[0], args...)
	if err := cmd.Start(); err != nil {
		return err
	}

	go func() {
		err := cmd.Wait()

		l.mu.Lock()
		defer l.mu.Unlock()
		l.assocDone = true
		l.assocErr = err
	}()
	return nil
}

func (l *InterfaceLink) Status() application.LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.assocDone && l.assocErr != nil {
		l.log.Warn().Err(l.assocErr).Msg("association failed")
		return application.LinkFail
	}

	iface, err := l.params.LookupFunc(l.params.Interface)
	if err != nil {
		return application.LinkNoNet
	}
	if !l.macLogged {
		l.macLogged = true
		l.log.Info().Str("interface", iface.Name).Str("mac", iface.HardwareAddr.String()).Msg("link interface")
	}
	if iface.Flags&net.FlagUp == 0 {
		return application.LinkDown
	}

	addrs, err := l.params.AddrsFunc(iface)
	if err != nil {
		return application.LinkJoin
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil && !ip.IsLinkLocalUnicast() {
			l.address = ip.String()
			return application.LinkUp
		}
	}
	return application.LinkNoIP
}

func (l *InterfaceLink) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

var _ application.LinkDriver = &InterfaceLink{}
