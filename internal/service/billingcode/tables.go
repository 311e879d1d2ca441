package billingcode

var (
	emModifiers      = []string{"25", "57", "95", "GT", "GC"}
	labModifiers     = []string{"59", "90", "91", "QW"}
	ecgModifiers     = []string{"26", "TC", "59"}
	imagingModifiers = []string{"26", "TC", "59", "76", "77"}
	surgeryModifiers = []string{"22", "51", "59", "76", "RT", "LT", "XS"}
	scopeModifiers   = []string{"33", "52", "53", "59", "PT", "XS"}
	therapyModifiers = []string{"59", "GP", "GO", "KX", "XU"}
	dmeModifiers     = []string{"NU", "RR", "UE", "KX"}
)

func defaultCodes() []CodeInfo {
	return []CodeInfo{
		// Office visits, established patient
		{Code: "99211", Category: CategoryEvaluation, Description: "Office visit, established, minimal", BaseRate: 25, PriceRange: PriceRange{Min: 20, Max: 45}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99212"}, Complexity: 1},
		{Code: "99212", Category: CategoryEvaluation, Description: "Office visit, established, straightforward", BaseRate: 57, PriceRange: PriceRange{Min: 45, Max: 80}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99213"}, Complexity: 2},
		{Code: "99213", Category: CategoryEvaluation, Description: "Office visit, established, low complexity", BaseRate: 92, PriceRange: PriceRange{Min: 75, Max: 130}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99214"}, Complexity: 3},
		{Code: "99214", Category: CategoryEvaluation, Description: "Office visit, established, moderate complexity", BaseRate: 130, PriceRange: PriceRange{Min: 110, Max: 190}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99215"}, Complexity: 4},
		{Code: "99215", Category: CategoryEvaluation, Description: "Office visit, established, high complexity", BaseRate: 183, PriceRange: PriceRange{Min: 150, Max: 250}, AllowedModifiers: emModifiers, Complexity: 5},

		// Office visits, new patient
		{Code: "99202", Category: CategoryEvaluation, Description: "Office visit, new, straightforward", BaseRate: 73, PriceRange: PriceRange{Min: 70, Max: 120}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99203"}, Complexity: 2},
		{Code: "99203", Category: CategoryEvaluation, Description: "Office visit, new, low complexity", BaseRate: 112, PriceRange: PriceRange{Min: 110, Max: 170}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99204"}, Complexity: 3},
		{Code: "99204", Category: CategoryEvaluation, Description: "Office visit, new, moderate complexity", BaseRate: 167, PriceRange: PriceRange{Min: 165, Max: 260}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99205"}, Complexity: 4},
		{Code: "99205", Category: CategoryEvaluation, Description: "Office visit, new, high complexity", BaseRate: 211, PriceRange: PriceRange{Min: 210, Max: 330}, AllowedModifiers: emModifiers, Complexity: 5},

		// Emergency department
		{Code: "99281", Category: CategoryEvaluation, Description: "ED visit, minimal", BaseRate: 24, PriceRange: PriceRange{Min: 50, Max: 100}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99282"}, Complexity: 1},
		{Code: "99282", Category: CategoryEvaluation, Description: "ED visit, straightforward", BaseRate: 47, PriceRange: PriceRange{Min: 90, Max: 160}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99283"}, Complexity: 2},
		{Code: "99283", Category: CategoryEvaluation, Description: "ED visit, low complexity", BaseRate: 76, PriceRange: PriceRange{Min: 150, Max: 260}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99284"}, Complexity: 3},
		{Code: "99284", Category: CategoryEvaluation, Description: "ED visit, moderate complexity", BaseRate: 128, PriceRange: PriceRange{Min: 250, Max: 450}, AllowedModifiers: emModifiers, HigherLevelCodes: []string{"99285"}, Complexity: 4},
		{Code: "99285", Category: CategoryEvaluation, Description: "ED visit, high complexity", BaseRate: 188, PriceRange: PriceRange{Min: 380, Max: 650}, AllowedModifiers: emModifiers, Complexity: 5},

		// Laboratory panels and components
		{Code: "80053", Category: CategoryLaboratory, Description: "Comprehensive metabolic panel", BaseRate: 14, PriceRange: PriceRange{Min: 15, Max: 60}, AllowedModifiers: labModifiers, BundledWith: []string{"80048", "82565", "84295", "82947", "84132"}, UnbundlingRisk: TierHigh},
		{Code: "80048", Category: CategoryLaboratory, Description: "Basic metabolic panel", BaseRate: 11, PriceRange: PriceRange{Min: 10, Max: 45}, AllowedModifiers: labModifiers, BundledWith: []string{"82565", "84295", "82947", "84132"}, UnbundlingRisk: TierHigh},
		{Code: "82565", Category: CategoryLaboratory, Description: "Creatinine, blood", BaseRate: 7, PriceRange: PriceRange{Min: 5, Max: 20}, AllowedModifiers: labModifiers},
		{Code: "84295", Category: CategoryLaboratory, Description: "Sodium, serum", BaseRate: 6, PriceRange: PriceRange{Min: 5, Max: 20}, AllowedModifiers: labModifiers},
		{Code: "84132", Category: CategoryLaboratory, Description: "Potassium, serum", BaseRate: 6, PriceRange: PriceRange{Min: 5, Max: 20}, AllowedModifiers: labModifiers},
		{Code: "82947", Category: CategoryLaboratory, Description: "Glucose, quantitative", BaseRate: 5, PriceRange: PriceRange{Min: 4, Max: 18}, AllowedModifiers: labModifiers},
		{Code: "85025", Category: CategoryLaboratory, Description: "Complete blood count with differential", BaseRate: 10, PriceRange: PriceRange{Min: 10, Max: 40}, AllowedModifiers: labModifiers, BundledWith: []string{"85027", "85004"}, UnbundlingRisk: TierMedium},
		{Code: "85027", Category: CategoryLaboratory, Description: "Complete blood count, automated", BaseRate: 8, PriceRange: PriceRange{Min: 8, Max: 30}, AllowedModifiers: labModifiers},
		{Code: "85004", Category: CategoryLaboratory, Description: "Automated differential WBC count", BaseRate: 7, PriceRange: PriceRange{Min: 6, Max: 25}, AllowedModifiers: labModifiers},
		{Code: "81001", Category: CategoryLaboratory, Description: "Urinalysis with microscopy", BaseRate: 4, PriceRange: PriceRange{Min: 4, Max: 15}, AllowedModifiers: labModifiers, BundledWith: []string{"81003"}, UnbundlingRisk: TierMedium},
		{Code: "81003", Category: CategoryLaboratory, Description: "Urinalysis, automated, without microscopy", BaseRate: 3, PriceRange: PriceRange{Min: 3, Max: 12}, AllowedModifiers: labModifiers},
		{Code: "36415", Category: CategoryLaboratory, Description: "Routine venipuncture", BaseRate: 3, PriceRange: PriceRange{Min: 3, Max: 15}, AllowedModifiers: labModifiers},

		// Cardiology
		{Code: "93000", Category: CategoryCardiology, Description: "Electrocardiogram, complete", BaseRate: 17, PriceRange: PriceRange{Min: 15, Max: 60}, AllowedModifiers: ecgModifiers, BundledWith: []string{"93005", "93010"}, UnbundlingRisk: TierHigh},
		{Code: "93005", Category: CategoryCardiology, Description: "Electrocardiogram, tracing only", BaseRate: 9, PriceRange: PriceRange{Min: 8, Max: 30}, AllowedModifiers: ecgModifiers},
		{Code: "93010", Category: CategoryCardiology, Description: "Electrocardiogram, interpretation only", BaseRate: 8, PriceRange: PriceRange{Min: 6, Max: 25}, AllowedModifiers: ecgModifiers},

		// Radiology
		{Code: "71046", Category: CategoryRadiology, Description: "Chest x-ray, 2 views", BaseRate: 32, PriceRange: PriceRange{Min: 30, Max: 120}, AllowedModifiers: imagingModifiers, BundledWith: []string{"71045"}, UnbundlingRisk: TierMedium},
		{Code: "71045", Category: CategoryRadiology, Description: "Chest x-ray, single view", BaseRate: 25, PriceRange: PriceRange{Min: 25, Max: 90}, AllowedModifiers: imagingModifiers, HigherLevelCodes: []string{"71046"}},

		// Endoscopy
		{Code: "45378", Category: CategorySurgery, Description: "Colonoscopy, diagnostic", BaseRate: 380, PriceRange: PriceRange{Min: 500, Max: 1500}, AllowedModifiers: scopeModifiers, HigherLevelCodes: []string{"45380", "45385"}},
		{Code: "45380", Category: CategorySurgery, Description: "Colonoscopy with biopsy", BaseRate: 445, PriceRange: PriceRange{Min: 600, Max: 1800}, AllowedModifiers: scopeModifiers, BundledWith: []string{"45378"}, UnbundlingRisk: TierHigh},
		{Code: "45385", Category: CategorySurgery, Description: "Colonoscopy with snare polypectomy", BaseRate: 495, PriceRange: PriceRange{Min: 700, Max: 2000}, AllowedModifiers: scopeModifiers, BundledWith: []string{"45378"}, UnbundlingRisk: TierHigh},

		// Orthopedic arthroscopy
		{Code: "29877", Category: CategorySurgery, Description: "Knee arthroscopy, debridement", BaseRate: 520, PriceRange: PriceRange{Min: 900, Max: 2200}, AllowedModifiers: surgeryModifiers, HigherLevelCodes: []string{"29881"}},
		{Code: "29881", Category: CategorySurgery, Description: "Knee arthroscopy, meniscectomy medial or lateral", BaseRate: 560, PriceRange: PriceRange{Min: 1200, Max: 3000}, AllowedModifiers: surgeryModifiers, BundledWith: []string{"29877"}, UnbundlingRisk: TierHigh, HigherLevelCodes: []string{"29880"}},
		{Code: "29880", Category: CategorySurgery, Description: "Knee arthroscopy, meniscectomy medial and lateral", BaseRate: 600, PriceRange: PriceRange{Min: 1300, Max: 3200}, AllowedModifiers: surgeryModifiers, BundledWith: []string{"29881", "29877"}, UnbundlingRisk: TierHigh},

		// Wound care
		{Code: "11042", Category: CategorySurgery, Description: "Debridement, subcutaneous tissue", BaseRate: 130, PriceRange: PriceRange{Min: 120, Max: 320}, AllowedModifiers: surgeryModifiers, BundledWith: []string{"97597"}, UnbundlingRisk: TierMedium},
		{Code: "97597", Category: CategorySurgery, Description: "Selective debridement, open wound", BaseRate: 85, PriceRange: PriceRange{Min: 80, Max: 200}, AllowedModifiers: surgeryModifiers, HigherLevelCodes: []string{"11042"}},

		// Injections
		{Code: "20610", Category: CategoryInjection, Description: "Arthrocentesis, major joint", BaseRate: 66, PriceRange: PriceRange{Min: 60, Max: 180}, AllowedModifiers: surgeryModifiers, BundledWith: []string{"96372"}, UnbundlingRisk: TierLow},
		{Code: "96372", Category: CategoryInjection, Description: "Therapeutic injection, SC/IM", BaseRate: 20, PriceRange: PriceRange{Min: 15, Max: 50}, AllowedModifiers: []string{"59", "XU"}},

		// Physical therapy, billed per 15 minutes
		{Code: "97110", Category: CategoryTherapy, Description: "Therapeutic exercise, 15 min", BaseRate: 30, PriceRange: PriceRange{Min: 25, Max: 60}, AllowedModifiers: therapyModifiers},
		{Code: "97112", Category: CategoryTherapy, Description: "Neuromuscular re-education, 15 min", BaseRate: 34, PriceRange: PriceRange{Min: 28, Max: 65}, AllowedModifiers: therapyModifiers},
		{Code: "97140", Category: CategoryTherapy, Description: "Manual therapy, 15 min", BaseRate: 28, PriceRange: PriceRange{Min: 25, Max: 60}, AllowedModifiers: therapyModifiers},
		{Code: "97530", Category: CategoryTherapy, Description: "Therapeutic activities, 15 min", BaseRate: 36, PriceRange: PriceRange{Min: 30, Max: 70}, AllowedModifiers: therapyModifiers, BundledWith: []string{"97140"}, UnbundlingRisk: TierMedium},

		// Psychotherapy
		{Code: "90832", Category: CategoryBehavioral, Description: "Psychotherapy, 30 min", BaseRate: 72, PriceRange: PriceRange{Min: 60, Max: 120}, AllowedModifiers: []string{"95", "GT"}, HigherLevelCodes: []string{"90834"}},
		{Code: "90834", Category: CategoryBehavioral, Description: "Psychotherapy, 45 min", BaseRate: 96, PriceRange: PriceRange{Min: 80, Max: 160}, AllowedModifiers: []string{"95", "GT"}, HigherLevelCodes: []string{"90837"}},
		{Code: "90837", Category: CategoryBehavioral, Description: "Psychotherapy, 60 min", BaseRate: 142, PriceRange: PriceRange{Min: 110, Max: 200}, AllowedModifiers: []string{"95", "GT"}},

		// Durable medical equipment
		{Code: "E0114", Category: CategoryEquipment, Description: "Crutches, underarm, pair", BaseRate: 40, PriceRange: PriceRange{Min: 30, Max: 120}, AllowedModifiers: dmeModifiers},
		{Code: "E0601", Category: CategoryEquipment, Description: "CPAP device", BaseRate: 90, PriceRange: PriceRange{Min: 400, Max: 1200}, AllowedModifiers: dmeModifiers},
	}
}

func defaultHighRiskCombinations() []HighRiskCombination {
	return []HighRiskCombination{
		{Codes: [2]string{"80053", "80048"}, Reason: "basic panel billed inside comprehensive panel"},
		{Codes: [2]string{"85025", "85027"}, Reason: "CBC billed with and without differential"},
		{Codes: [2]string{"93000", "93010"}, Reason: "ECG interpretation billed with complete ECG"},
		{Codes: [2]string{"93000", "93005"}, Reason: "ECG tracing billed with complete ECG"},
		{Codes: [2]string{"45378", "45380"}, Reason: "diagnostic colonoscopy billed with biopsy colonoscopy"},
		{Codes: [2]string{"45378", "45385"}, Reason: "diagnostic colonoscopy billed with polypectomy"},
		{Codes: [2]string{"29880", "29881"}, Reason: "single-compartment meniscectomy billed with bilateral"},
		{Codes: [2]string{"99205", "99215"}, Reason: "new and established visit on one claim"},
		{Codes: [2]string{"99285", "99215"}, Reason: "ED and office visit on one claim"},
	}
}
