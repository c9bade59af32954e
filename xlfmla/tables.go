package xlfmla

// funcSpec is one row of the built-in function table: BIFF index, name,
// argument count range, return class, argument classes (the last one
// repeats) and the volatile flag.
type funcSpec struct {
	index    int
	name     string
	min, max int
	ret      byte
	args     string
	volatile bool
}

const maxArgs = 30

var builtinFuncs = []funcSpec{
	{0, "COUNT", 0, maxArgs, 'V', "R", false},
	{1, "IF", 2, 3, 'V', "VRR", false},
	{2, "ISNA", 1, 1, 'V', "V", false},
	{3, "ISERROR", 1, 1, 'V', "V", false},
	{4, "SUM", 0, maxArgs, 'V', "R", false},
	{5, "AVERAGE", 1, maxArgs, 'V', "R", false},
	{6, "MIN", 1, maxArgs, 'V', "R", false},
	{7, "MAX", 1, maxArgs, 'V', "R", false},
	{8, "ROW", 0, 1, 'V', "R", false},
	{9, "COLUMN", 0, 1, 'V', "R", false},
	{10, "NA", 0, 0, 'V', "", false},
	{11, "NPV", 2, maxArgs, 'V', "VR", false},
	{12, "STDEV", 1, maxArgs, 'V', "R", false},
	{13, "DOLLAR", 1, 2, 'V', "V", false},
	{14, "FIXED", 1, 3, 'V', "V", false},
	{15, "SIN", 1, 1, 'V', "V", false},
	{16, "COS", 1, 1, 'V', "V", false},
	{17, "TAN", 1, 1, 'V', "V", false},
	{18, "ATAN", 1, 1, 'V', "V", false},
	{19, "PI", 0, 0, 'V', "", false},
	{20, "SQRT", 1, 1, 'V', "V", false},
	{21, "EXP", 1, 1, 'V', "V", false},
	{22, "LN", 1, 1, 'V', "V", false},
	{23, "LOG10", 1, 1, 'V', "V", false},
	{24, "ABS", 1, 1, 'V', "V", false},
	{25, "INT", 1, 1, 'V', "V", false},
	{26, "SIGN", 1, 1, 'V', "V", false},
	{27, "ROUND", 2, 2, 'V', "V", false},
	{28, "LOOKUP", 2, 3, 'V', "VR", false},
	{29, "INDEX", 2, 4, 'R', "RV", false},
	{30, "REPT", 2, 2, 'V', "V", false},
	{31, "MID", 3, 3, 'V', "V", false},
	{32, "LEN", 1, 1, 'V', "V", false},
	{33, "VALUE", 1, 1, 'V', "V", false},
	{34, "TRUE", 0, 0, 'V', "", false},
	{35, "FALSE", 0, 0, 'V', "", false},
	{36, "AND", 1, maxArgs, 'V', "R", false},
	{37, "OR", 1, maxArgs, 'V', "R", false},
	{38, "NOT", 1, 1, 'V', "V", false},
	{39, "MOD", 2, 2, 'V', "V", false},
	{46, "VAR", 1, maxArgs, 'V', "R", false},
	{48, "TEXT", 2, 2, 'V', "V", false},
	{49, "LINEST", 1, 4, 'A', "RRV", false},
	{50, "TREND", 1, 4, 'A', "RRRV", false},
	{51, "LOGEST", 1, 4, 'A', "RRV", false},
	{52, "GROWTH", 1, 4, 'A', "RRRV", false},
	{56, "PV", 3, 5, 'V', "V", false},
	{57, "FV", 3, 5, 'V', "V", false},
	{58, "NPER", 3, 5, 'V', "V", false},
	{59, "PMT", 3, 5, 'V', "V", false},
	{60, "RATE", 3, 6, 'V', "V", false},
	{61, "MIRR", 3, 3, 'V', "RV", false},
	{62, "IRR", 1, 2, 'V', "RV", false},
	{63, "RAND", 0, 0, 'V', "", true},
	{64, "MATCH", 2, 3, 'V', "VRR", false},
	{65, "DATE", 3, 3, 'V', "V", false},
	{66, "TIME", 3, 3, 'V', "V", false},
	{67, "DAY", 1, 1, 'V', "V", false},
	{68, "MONTH", 1, 1, 'V', "V", false},
	{69, "YEAR", 1, 1, 'V', "V", false},
	{70, "WEEKDAY", 1, 2, 'V', "V", false},
	{71, "HOUR", 1, 1, 'V', "V", false},
	{72, "MINUTE", 1, 1, 'V', "V", false},
	{73, "SECOND", 1, 1, 'V', "V", false},
	{74, "NOW", 0, 0, 'V', "", true},
	{75, "AREAS", 1, 1, 'V', "R", false},
	{76, "ROWS", 1, 1, 'V', "R", false},
	{77, "COLUMNS", 1, 1, 'V', "R", false},
	{78, "OFFSET", 3, 5, 'R', "RV", true},
	{82, "SEARCH", 2, 3, 'V', "V", false},
	{83, "TRANSPOSE", 1, 1, 'A', "A", false},
	{86, "TYPE", 1, 1, 'V', "V", false},
	{97, "ATAN2", 2, 2, 'V', "V", false},
	{98, "ASIN", 1, 1, 'V', "V", false},
	{99, "ACOS", 1, 1, 'V', "V", false},
	{100, "CHOOSE", 2, maxArgs, 'V', "VR", false},
	{101, "HLOOKUP", 3, 4, 'V', "VRRV", false},
	{102, "VLOOKUP", 3, 4, 'V', "VRRV", false},
	{105, "ISREF", 1, 1, 'V', "R", false},
	{109, "LOG", 1, 2, 'V', "V", false},
	{111, "CHAR", 1, 1, 'V', "V", false},
	{112, "LOWER", 1, 1, 'V', "V", false},
	{113, "UPPER", 1, 1, 'V', "V", false},
	{114, "PROPER", 1, 1, 'V', "V", false},
	{115, "LEFT", 1, 2, 'V', "V", false},
	{116, "RIGHT", 1, 2, 'V', "V", false},
	{117, "EXACT", 2, 2, 'V', "V", false},
	{118, "TRIM", 1, 1, 'V', "V", false},
	{119, "REPLACE", 4, 4, 'V', "V", false},
	{120, "SUBSTITUTE", 3, 4, 'V', "V", false},
	{121, "CODE", 1, 1, 'V', "V", false},
	{124, "FIND", 2, 3, 'V', "V", false},
	{125, "CELL", 1, 2, 'V', "VR", true},
	{126, "ISERR", 1, 1, 'V', "V", false},
	{127, "ISTEXT", 1, 1, 'V', "V", false},
	{128, "ISNUMBER", 1, 1, 'V', "V", false},
	{129, "ISBLANK", 1, 1, 'V', "V", false},
	{130, "T", 1, 1, 'V', "R", false},
	{131, "N", 1, 1, 'V', "R", false},
	{140, "DATEVALUE", 1, 1, 'V', "V", false},
	{141, "TIMEVALUE", 1, 1, 'V', "V", false},
	{142, "SLN", 3, 3, 'V', "V", false},
	{143, "SYD", 4, 4, 'V', "V", false},
	{144, "DDB", 4, 5, 'V', "V", false},
	{148, "INDIRECT", 1, 2, 'R', "V", true},
	{162, "CLEAN", 1, 1, 'V', "V", false},
	{163, "MDETERM", 1, 1, 'V', "A", false},
	{164, "MINVERSE", 1, 1, 'A', "A", false},
	{165, "MMULT", 2, 2, 'A', "A", false},
	{167, "IPMT", 4, 6, 'V', "V", false},
	{168, "PPMT", 4, 6, 'V', "V", false},
	{169, "COUNTA", 0, maxArgs, 'V', "R", false},
	{183, "PRODUCT", 0, maxArgs, 'V', "R", false},
	{184, "FACT", 1, 1, 'V', "V", false},
	{190, "ISNONTEXT", 1, 1, 'V', "V", false},
	{193, "STDEVP", 1, maxArgs, 'V', "R", false},
	{194, "VARP", 1, maxArgs, 'V', "R", false},
	{197, "TRUNC", 1, 2, 'V', "V", false},
	{198, "ISLOGICAL", 1, 1, 'V', "V", false},
	{212, "ROUNDUP", 2, 2, 'V', "V", false},
	{213, "ROUNDDOWN", 2, 2, 'V', "V", false},
	{216, "RANK", 2, 3, 'V', "VRV", false},
	{219, "ADDRESS", 2, 5, 'V', "V", false},
	{220, "DAYS360", 2, 3, 'V', "V", false},
	{221, "TODAY", 0, 0, 'V', "", true},
	{227, "MEDIAN", 1, maxArgs, 'V', "R", false},
	{228, "SUMPRODUCT", 1, maxArgs, 'V', "A", false},
	{229, "SINH", 1, 1, 'V', "V", false},
	{230, "COSH", 1, 1, 'V', "V", false},
	{231, "TANH", 1, 1, 'V', "V", false},
	{232, "ASINH", 1, 1, 'V', "V", false},
	{233, "ACOSH", 1, 1, 'V', "V", false},
	{234, "ATANH", 1, 1, 'V', "V", false},
	{244, "INFO", 1, 1, 'V', "V", true},
	{247, "DB", 4, 5, 'V', "V", false},
	{252, "FREQUENCY", 2, 2, 'A', "R", false},
	{261, "ERROR.TYPE", 1, 1, 'V', "V", false},
	{269, "AVEDEV", 1, maxArgs, 'V', "R", false},
	{276, "COMBIN", 2, 2, 'V', "V", false},
	{279, "EVEN", 1, 1, 'V', "V", false},
	{285, "FLOOR", 2, 2, 'V', "V", false},
	{288, "CEILING", 2, 2, 'V', "V", false},
	{298, "ODD", 1, 1, 'V', "V", false},
	{303, "SUMXMY2", 2, 2, 'V', "A", false},
	{304, "SUMX2MY2", 2, 2, 'V', "A", false},
	{305, "SUMX2PY2", 2, 2, 'V', "A", false},
	{312, "CORREL", 2, 2, 'V', "A", false},
	{313, "PEARSON", 2, 2, 'V', "A", false},
	{318, "DEVSQ", 1, maxArgs, 'V', "R", false},
	{319, "GEOMEAN", 1, maxArgs, 'V', "R", false},
	{320, "HARMEAN", 1, maxArgs, 'V', "R", false},
	{321, "SUMSQ", 0, maxArgs, 'V', "R", false},
	{322, "KURT", 1, maxArgs, 'V', "R", false},
	{323, "SKEW", 1, maxArgs, 'V', "R", false},
	{325, "LARGE", 2, 2, 'V', "RV", false},
	{326, "SMALL", 2, 2, 'V', "RV", false},
	{327, "QUARTILE", 2, 2, 'V', "RV", false},
	{328, "PERCENTILE", 2, 2, 'V', "RV", false},
	{330, "MODE", 1, maxArgs, 'V', "A", false},
	{336, "CONCATENATE", 0, maxArgs, 'V', "V", false},
	{337, "POWER", 2, 2, 'V', "V", false},
	{342, "RADIANS", 1, 1, 'V', "V", false},
	{343, "DEGREES", 1, 1, 'V', "V", false},
	{344, "SUBTOTAL", 2, maxArgs, 'V', "VR", false},
	{345, "SUMIF", 2, 3, 'V', "RVR", false},
	{346, "COUNTIF", 2, 2, 'V', "RV", false},
	{347, "COUNTBLANK", 1, 1, 'V', "R", false},
	{354, "ROMAN", 1, 2, 'V', "V", false},
	{361, "AVERAGEA", 1, maxArgs, 'V', "R", false},
	{362, "MAXA", 1, maxArgs, 'V', "R", false},
	{363, "MINA", 1, maxArgs, 'V', "R", false},
	{364, "STDEVPA", 1, maxArgs, 'V', "R", false},
	{365, "VARPA", 1, maxArgs, 'V', "R", false},
	{366, "STDEVA", 1, maxArgs, 'V', "R", false},
	{367, "VARA", 1, maxArgs, 'V', "R", false},
}

// addInIndex is the function index of calls to add-in and user-defined
// functions; the callee is the tNameX pushed before the arguments.
const addInIndex = 255
