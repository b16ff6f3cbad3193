package orientation

import (
	"github.com/gradehub/orientation-engine/internal/domain/cohort"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
)

// Subject ids of the MPI curriculum used by the default formulas.
const (
	SubjectAnalyse1    grade.SubjectID = "analyse1"
	SubjectAnalyse2    grade.SubjectID = "analyse2"
	SubjectAlgebre1    grade.SubjectID = "algebre1"
	SubjectAlgebre2    grade.SubjectID = "algebre2"
	SubjectAlgo1       grade.SubjectID = "algo1"
	SubjectAlgo2       grade.SubjectID = "algo2"
	SubjectProg1       grade.SubjectID = "prog1"
	SubjectProg2       grade.SubjectID = "prog2"
	SubjectSysLogique  grade.SubjectID = "sys_logique"
	SubjectElectronics grade.SubjectID = "electronique"
	SubjectCircuits    grade.SubjectID = "circuits"
)

// mathWeights is the mean of the four mathematics subjects.
func mathWeights() map[grade.SubjectID]float64 {
	return map[grade.SubjectID]float64{
		SubjectAnalyse1: 0.25,
		SubjectAnalyse2: 0.25,
		SubjectAlgebre1: 0.25,
		SubjectAlgebre2: 0.25,
	}
}

// infoWeights is (2·algo1 + 2·algo2 + prog1 + prog2)/6 scaled by k.
func infoWeights(k float64, into map[grade.SubjectID]float64) {
	into[SubjectAlgo1] = k * 2.0 / 6.0
	into[SubjectAlgo2] = k * 2.0 / 6.0
	into[SubjectProg1] = k * 1.0 / 6.0
	into[SubjectProg2] = k * 1.0 / 6.0
}

// DefaultSettings returns the MPI orientation rules:
//
//	GL  = 2·MG + math + 2·info + SL
//	RT  = 2·MG + math + info + SL
//	IIA = 2·MG + math + info + SL + (electronique + circuits)/2
//	IMI = MG
func DefaultSettings() Settings {
	gl := mathWeights()
	infoWeights(2, gl)
	gl[SubjectSysLogique] = 1

	rt := mathWeights()
	infoWeights(1, rt)
	rt[SubjectSysLogique] = 1

	iia := mathWeights()
	infoWeights(1, iia)
	iia[SubjectSysLogique] = 1
	iia[SubjectElectronics] = 0.5
	iia[SubjectCircuits] = 0.5

	return Settings{
		Formulas: []Formula{
			{ID: "gl-mpi", Track: cohort.TrackGL, Version: 1, OverallWeight: 2, SubjectWeights: gl},
			{ID: "rt-mpi", Track: cohort.TrackRT, Version: 1, OverallWeight: 2, SubjectWeights: rt},
			{ID: "iia-mpi", Track: cohort.TrackIIA, Version: 1, OverallWeight: 2, SubjectWeights: iia},
			{ID: "imi-mg", Track: cohort.TrackIMI, Version: 1, OverallWeight: 1},
		},
		Weighting: cohort.DefaultWeighting(),
		Eligibility: []EligibilityRule{
			{Track: cohort.TrackGL, MinOverall: 10, Strict: true, Quota: 0.25},
			{Track: cohort.TrackRT, MinOverall: 10, Strict: true, Quota: 0.5},
			{Track: cohort.TrackIIA, MinOverall: 10, Strict: true, Quota: 0.5, InheritFrom: []cohort.Track{cohort.TrackGL, cohort.TrackRT}},
			{Track: cohort.TrackIMI, MinOverall: 9},
		},
	}
}
