package extraction

import "fmt"

// Chapter is a subject-chapter code from the fixed mathematics taxonomy.
type Chapter int

// Chapter codes understood by the extraction service.
const (
	ChapterSetsRelationsFunctions Chapter = iota + 1
	ChapterComplexNumbersQuadratics
	ChapterMatricesDeterminants
	ChapterPermutationsCombinations
	ChapterBinomialTheorem
	ChapterLimitsContinuityDifferentiability
	ChapterIntegralCalculus
	ChapterDifferentialEquations
	ChapterCoordinateGeometry
	ChapterVectorAlgebra
	Chapter3DGeometry
	ChapterStatisticsProbability
	ChapterTrigonometry
)

var chapterNames = map[Chapter]string{
	ChapterSetsRelationsFunctions:            "Sets, Relations and Functions",
	ChapterComplexNumbersQuadratics:          "Complex Numbers and Quadratic Equations",
	ChapterMatricesDeterminants:              "Matrices and Determinants",
	ChapterPermutationsCombinations:          "Permutations and Combinations",
	ChapterBinomialTheorem:                   "Binomial Theorem",
	ChapterLimitsContinuityDifferentiability: "Limit Continuity and Differentiability",
	ChapterIntegralCalculus:                  "Integral Calculus",
	ChapterDifferentialEquations:             "Differential Equations",
	ChapterCoordinateGeometry:                "Coordinate Geometry",
	ChapterVectorAlgebra:                     "Vector Algebra",
	Chapter3DGeometry:                        "3D Geometry",
	ChapterStatisticsProbability:             "Statistics and Probability",
	ChapterTrigonometry:                      "Trigonometry",
}

// Chapters returns every chapter code in ascending order.
func Chapters() []Chapter {
	out := make([]Chapter, 0, len(chapterNames))
	for c := ChapterSetsRelationsFunctions; c <= ChapterTrigonometry; c++ {
		out = append(out, c)
	}
	return out
}

// Valid reports whether c belongs to the taxonomy.
func (c Chapter) Valid() bool {
	_, ok := chapterNames[c]
	return ok
}

// String returns the chapter title, or a placeholder for unknown codes.
func (c Chapter) String() string {
	if name, ok := chapterNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Chapter(%d)", int(c))
}
