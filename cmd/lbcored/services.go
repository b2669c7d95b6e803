package main

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/yanet-platform/lbcore/internal/config"
	"github.com/yanet-platform/lbcore/internal/ipvs"
	"github.com/yanet-platform/lbcore/internal/vrrp"
)

func provisionServices(handle *ipvs.Handle, specs []config.ServiceSpec) error {
	for _, svc := range specs {
		service, err := toIPVSService(svc)
		if err != nil {
			return err
		}

		if err := handle.AddService(service); err != nil && !ipvs.IsExist(err) {
			return fmt.Errorf("add service %v: %w", service.Key(), err)
		}

		for _, dest := range svc.Destinations {
			destination, err := toIPVSDestination(dest)
			if err != nil {
				return err
			}
			if err := handle.AddDestination(service, destination); err != nil && !ipvs.IsExist(err) {
				return fmt.Errorf("add destination %s:%d: %w", dest.Address, dest.Port, err)
			}
		}
	}
	return nil
}

func toIPVSService(spec config.ServiceSpec) (*ipvs.Service, error) {
	svc := &ipvs.Service{
		FWMark:    spec.FWMark,
		Scheduler: spec.Scheduler,
		Port:      spec.Port,
	}

	if spec.FWMark == 0 {
		ip, err := config.ParseIP("services[].address", spec.Address)
		if err != nil {
			return nil, err
		}
		svc.Address = ip

		switch spec.Protocol {
		case "tcp", "":
			svc.Protocol = ipvs.ProtocolTCP
		case "udp":
			svc.Protocol = ipvs.ProtocolUDP
		case "sctp":
			svc.Protocol = ipvs.ProtocolSCTP
		default:
			return nil, fmt.Errorf("config: services[].protocol: unknown protocol %q", spec.Protocol)
		}
	}

	return svc, nil
}

func toIPVSDestination(spec config.DestinationSpec) (*ipvs.Destination, error) {
	ip, err := config.ParseIP("destinations[].address", spec.Address)
	if err != nil {
		return nil, err
	}

	dest := &ipvs.Destination{
		Address: ip,
		Port:    spec.Port,
		Weight:  spec.Weight,
	}

	switch spec.Forwarder {
	case "masq", "":
		dest.ForwardingMethod = ipvs.ForwardingMasq
	case "local":
		dest.ForwardingMethod = ipvs.ForwardingLocal
	case "tunnel":
		dest.ForwardingMethod = ipvs.ForwardingTunnel
	case "route":
		dest.ForwardingMethod = ipvs.ForwardingRoute
	case "bypass":
		dest.ForwardingMethod = ipvs.ForwardingBypass
	default:
		return nil, fmt.Errorf("config: destinations[].forwarder: unknown forwarder %q", spec.Forwarder)
	}

	return dest, nil
}

func buildVRRPNodes(specs []config.VirtualRouterSpec, log *zap.SugaredLogger) ([]*vrrp.Node, error) {
	nodes := make([]*vrrp.Node, 0, len(specs))

	for _, spec := range specs {
		primary, err := config.ParseIP("virtual_routers[].primary_address", spec.PrimaryAddress)
		if err != nil {
			return nil, err
		}

		vips := make([]net.IP, 0, len(spec.VirtualAddresses))
		for _, addr := range spec.VirtualAddresses {
			ip, err := config.ParseIP("virtual_routers[].virtual_addresses[]", addr)
			if err != nil {
				return nil, err
			}
			vips = append(vips, ip)
		}

		node, err := vrrp.New(vrrp.Config{
			VRID:             spec.VRID,
			Interface:        spec.Interface,
			PrimaryAddress:   primary,
			VirtualAddresses: vips,
			Priority:         spec.Priority,
			AdvertInterval:   spec.AdvertInterval,
			Preempt:          spec.Preempt,
		}, vrrp.WithLog(log.Named(fmt.Sprintf("vrrp.%d", spec.VRID))))
		if err != nil {
			return nil, fmt.Errorf("vrid %d: %w", spec.VRID, err)
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}
