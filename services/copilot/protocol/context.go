// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

// PathwayRef identifies the pathway the user is currently viewing.
type PathwayRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// PathwayStats are the computed statistics for the active pathway.
type PathwayStats struct {
	TotalNodes    int `json:"total_nodes"`
	Upregulated   int `json:"upregulated"`
	Downregulated int `json:"downregulated"`
}

// Thresholds are the significance cutoffs applied across the analysis.
type Thresholds struct {
	PValue float64 `json:"pvalue_threshold"`
	LogFC  float64 `json:"logfc_threshold"`
}

// AnalysisContext is the ambient workspace state attached to outbound
// queries and resolution decisions so the backend can ground tool calls
// in what the user is actually looking at.
type AnalysisContext struct {
	Pathway          *PathwayRef   `json:"pathway,omitempty"`
	Statistics       *PathwayStats `json:"statistics,omitempty"`
	Thresholds       *Thresholds   `json:"thresholds,omitempty"`
	SignificantGenes []string      `json:"significant_genes,omitempty"`

	// Language is the UI language hint forwarded to the backend
	// (e.g., "en", "zh"). Empty means backend default.
	Language string `json:"language,omitempty"`
}
