package perfdash

// PeakPoint returns the point with the highest throughput.
//
// Points without a throughput never win; on equal throughput the earlier
// point wins. PeakPoint returns nil when no point has a throughput.
func PeakPoint(points []MetricPoint) *MetricPoint {
	var peak *MetricPoint
	for i := range points {
		p := &points[i]
		if p.ThroughputMBs == nil {
			continue
		}
		if peak == nil || *p.ThroughputMBs > *peak.ThroughputMBs {
			peak = p
		}
	}
	return peak
}

// composeSummary merges the metadata record with the peak point's metrics.
// A nil peak leaves every peak-derived field nil.
func composeSummary(rec Record, peak *MetricPoint) Summary {
	s := Summary{Record: rec}
	if peak == nil {
		return s
	}
	iteration := peak.Iteration
	s.PeakIteration = &iteration
	s.PeakThroughputMBs = peak.ThroughputMBs
	s.PeakLatencyUS = peak.LatencyUS
	s.CPUBusy = peak.CPUBusy
	s.VMInstance = peak.VMInstance
	s.ReadIOCache = peak.ReadIOCache
	s.ReadIOExtCache = peak.ReadIOExtCache
	s.ReadIODisk = peak.ReadIODisk
	s.ReadIOBambooSSD = peak.ReadIOBambooSSD
	s.RDMAActualLatency = peak.RDMAActualLatency
	s.ReadOps = peak.ReadOps
	s.LogURL = peak.LogURL
	return s
}
