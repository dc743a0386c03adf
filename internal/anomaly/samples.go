package anomaly

// Samples returns one literal event per known kind, used by the simulation
// run mode.
func Samples() []Event {
	return []Event{
		{Kind: KindDDoS, DestinationAddress: "10.0.0.1"},
		{Kind: KindPortScan, SourceAddress: "192.168.1.100", DestinationAddress: "10.0.0.1"},
		{Kind: KindICMPFlood, DestinationAddress: "10.0.0.1"},
		{Kind: KindOverlayVulnerability, DestinationAddress: "10.0.0.1"},
		{Kind: KindPolicyMisconfiguration, DestinationAddress: "10.0.0.1"},
		{Kind: KindDNSAttack, DestinationAddress: "10.0.0.1"},
		{Kind: KindLateralMovement, DestinationAddress: "10.0.0.1"},
		{Kind: KindResourceExhaustion, DestinationAddress: "10.0.0.1"},
	}
}
