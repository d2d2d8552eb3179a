package template

// Builtins returns the stock templates shipped with the daemon.
func Builtins() []Template {
	ingest := Step{
		ID:          "ingest",
		Name:        "Ingest",
		Description: "Upload and validate media files",
		Kind:        "ingest",
	}
	return []Template{
		{
			ID:               "broadcast-standard",
			Name:             "Broadcast Standard",
			Description:      "Complete broadcast workflow from ingest to delivery",
			Category:         CategoryBroadcast,
			EstimatedMinutes: 45,
			Steps: []Step{
				ingest,
				{ID: "qc", Name: "Quality Check", Description: "Automated quality assurance", Kind: "qc", DependsOn: []string{"ingest"}},
				{ID: "transcode", Name: "Transcode", Description: "Convert to broadcast formats", Kind: "transcode", DependsOn: []string{"qc"}, Weight: 4,
					Config: map[string]string{"preset": "grain", "crf": "22,24,26", "film_grain": "8"}},
				{ID: "review", Name: "Review", Description: "Manual review and approval", Kind: "review", DependsOn: []string{"transcode"}},
				{ID: "delivery", Name: "Delivery", Description: "Package for broadcast delivery", Kind: "delivery", DependsOn: []string{"review"}},
			},
		},
		{
			ID:               "ott-optimized",
			Name:             "OTT Optimized",
			Description:      "Streaming-optimized workflow with multiple formats",
			Category:         CategoryOTT,
			EstimatedMinutes: 35,
			Steps: []Step{
				ingest,
				{ID: "transcode", Name: "Multi-format Transcode", Description: "Create ABR streaming formats", Kind: "transcode", DependsOn: []string{"ingest"}, Weight: 4,
					Config: map[string]string{"preset": "clean", "crf": "25,27,29"}},
				{ID: "delivery", Name: "CDN Delivery", Description: "Deploy to content delivery network", Kind: "delivery", DependsOn: []string{"transcode"}},
			},
		},
		{
			ID:               "social-media",
			Name:             "Social Media",
			Description:      "Quick workflow for social media content",
			Category:         CategorySocial,
			EstimatedMinutes: 15,
			Steps: []Step{
				ingest,
				{ID: "transcode", Name: "Social Formats", Description: "Create platform-specific formats", Kind: "transcode", DependsOn: []string{"ingest"}, Weight: 2,
					Config: map[string]string{"preset": "quick", "crf": "30"}},
				{ID: "delivery", Name: "Social Publishing", Description: "Deploy to social platforms", Kind: "delivery", DependsOn: []string{"transcode"}},
			},
		},
	}
}
